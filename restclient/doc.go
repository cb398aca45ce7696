// Package restclient ties the binder and the pipeline together into a
// client for declaratively described REST operations.
//
// A Client is built from a Config, usually loaded with LoadConfig from a
// file plus RESTPIPE_* environment variables:
//
//	cfg, err := restclient.LoadConfig("blob.yaml")
//	client, err := restclient.New(cfg)
//	defer client.Close()
//
//	var props BlobProperties
//	err = client.CallInto(ctx, &props, getProperties, "c1", "b1")
//	switch restclient.KindOf(err) {
//	case restclient.KindUnexpectedStatus:
//	    var se *restclient.UnexpectedStatusError
//	    errors.As(err, &se)
//	    log.Warn().Int("status", se.StatusCode).Bytes("body", se.Body).Msg("get properties")
//	case restclient.KindTransport:
//	    ...
//	}
//
// Call checks the status against Method.ExpectedStatus. Everything else is
// done by the policies that Config.Factories lists.
package restclient
