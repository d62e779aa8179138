// Package tiscale is a Go client for the TitaniumScale worker REST API.
//
// A TitaniumScale worker accepts files for analysis and returns a task URL.
// Results are fetched by polling that URL until the worker reports the task
// as processed.
//
//	ts, err := tiscale.New(tiscale.Config{
//	    Host:  "https://tiscale.example.com",
//	    Token: os.Getenv("TISCALE_TOKEN"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := ts.UploadSampleFromPath(ctx, "/tmp/sample.bin", tiscale.UploadOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	taskURL, _ := resp.TaskURL()
//
//	report, err := ts.GetResults(ctx, taskURL, false)
//	switch {
//	case err != nil:
//	    log.Fatal(err)
//	case report == nil:
//	    // not processed within the retry budget
//	}
//
// Two error kinds are returned. [*WrongInputError] means the call was
// malformed and nothing was sent. [*RequestError] means the worker answered
// with a non-success status. Both match sentinels with errors.Is.
package tiscale
