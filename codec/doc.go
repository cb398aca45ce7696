// Package codec provides the body serializers used by the binder and the
// client.
//
// A Serializer turns a value into bytes plus the content type of those bytes,
// and decodes bytes back into a target according to the content type the
// server declared:
//
//	data, contentType, err := codec.JSON.Serialize(blob)
//	...
//	err = codec.Default.Deserialize(body, resp.Header.Get("Content-Type"), &out)
//
// Default serializes as JSON and decodes JSON or XML depending on the
// response content type. An empty payload decodes to nothing and leaves the
// target untouched.
package codec
