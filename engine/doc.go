// Package engine wires the recognition subsystems together — store,
// runner registry, extension registry, middleware chain, throttle
// manager, worker pool, and watchdog — and provides the application
// API: Submit, Get, List, Cancel, and the worker-facing claim and
// report operations.
//
// # Building an Engine
//
//	eng, err := engine.New(store, cfg,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithThrottle(throttle.Config{
//	        Model:          job.ModelObjectDetection,
//	        MaxConcurrency: 4,
//	    }),
//	)
//
// # Registering Runners
//
//	eng.Runners().Register(job.ModelObjectDetection, detectRunner)
//
// # Submitting Work
//
//	rec, err := eng.Submit(ctx, engine.Submission{
//	    TenantID:  "tenant-a",
//	    ModelType: job.ModelObjectDetection,
//	})
package engine
