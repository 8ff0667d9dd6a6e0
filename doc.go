// Package crashpipe reports application crashes to a collection endpoint,
// keeping the reports it could not deliver on disk until they can be
// replayed.
//
// Create a new *crashpipe.Reporter:
//	r, err := crashpipe.New(crashpipe.Configuration{
//		AppName:    "oopsie-daisy",
//		AppVersion: "1.3.5",
//		Endpoint:   "https://crashes.example.com/report",
//		Secret:     os.Getenv("HMAC_SECRET"),
//	})
//	if err != nil {
//		panic(err)
//	}
//	defer r.Close() // Gives queued reports one more chance to be delivered.
// Note: There are other configuration options you may set, see
// crashpipe.Configuration for more information.
//
// To report panics that would otherwise crash your program, install the
// reporter and defer Recover at the top of main, and of any goroutine you
// start:
//	defer r.Install().Uninstall()
//	defer crashpipe.Recover()
// Recover reports the panic through every installed Reporter and then
// panics again, so your program still crashes the way it would have.
//
// You can also report errors you were unable to handle yourself:
//	r.ReportCrash(ctx, err)
// Every report is signed with HMAC-SHA256 using the shared secret. A report
// that can't be delivered, because the endpoint is unreachable, slow, rate
// limiting or rejecting it, is written to a local queue directory instead.
// The queue is replayed on Close, with ReplayLocal, or on start if
// Configuration.ReplayOnStart is set.
//
// You can attach a stack trace and context to your errors by calling
//	err = crashpipe.Wrap(ctx, err)
// Any user ID or extra context attached to that ctx with WithUserID and
// WithContext is preserved in the returned err, so you can report it in a
// single location without losing where it happened.
//
// To read crash reports back and compute statistics over them, see the
// reader and stats packages.
package crashpipe
