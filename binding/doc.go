// Package binding turns declarative method metadata and call-time arguments
// into a pipeline.Request.
//
// A Method is a static table built once per operation, usually by generated
// code. It describes the verb, the host and path templates, the static
// headers, and the role of each positional argument:
//
//	var setMetadata = &binding.Method{
//	    Name:       "SetMetadata",
//	    HTTPMethod: http.MethodPut,
//	    Host:       "{url}",
//	    Path:       "{containerName}/{blob}",
//	    Headers:    map[string]string{"x-ms-version": "2017-04-17"},
//	    Params: []binding.Param{
//	        {Role: binding.RoleHost, Name: "url"},
//	        {Role: binding.RolePath, Name: "containerName", Required: true},
//	        {Role: binding.RolePath, Name: "blob", Required: true},
//	        {Role: binding.RoleQuery, Name: "timeout"},
//	        {Role: binding.RoleHeaderCollection, Name: "x-ms-meta-"},
//	        {Role: binding.RoleHeader, Name: "x-ms-lease-id"},
//	        {Role: binding.RoleQuery, Name: "comp"},
//	    },
//	    ExpectedStatus: []int{http.StatusOK},
//	}
//
//	req, err := binder.Bind(setMetadata,
//	    "https://account.blob.core.windows.net", "c1", "b1",
//	    (*int)(nil), map[string]string{"owner": "alice"}, leaseID, "metadata")
//
// # Binding rules
//
// Arguments are matched to Params by position. A nil value or a nil pointer
// is absent:
//
//   - path and host values replace their {name} placeholders. Path values are
//     percent-encoded unless the Param is Encoded; host values are inserted
//     as-is. When several Params target the same placeholder the last one in
//     declaration order wins.
//   - query values are appended in declaration order; absent ones are
//     omitted and an empty string is sent as "name=".
//   - header values replace static headers of the same name (case-insensitive).
//     An absent header keeps the static value.
//   - header collections emit one header per map entry named Name+key, in
//     key order. The Name itself is never sent.
//   - the body is attached raw for []byte, streamed for io.Reader and
//     serialized otherwise. Content-Type is set only when none is present.
//
// Every failure is reported as *Error and the request is never built
// partially.
package binding
