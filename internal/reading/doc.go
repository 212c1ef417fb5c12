// Package reading extracts meter readings from rtlamr JSON output and
// formats them for publishing.
//
// rtlamr emits one JSON object per line:
//
//	{"Time":"...","Offset":0,"Length":0,"Type":"SCM",
//	 "Message":{"ID":33333333,"Type":12,"TamperPhy":0,"TamperEnc":0,
//	            "Consumption":1234567,"ChecksumVal":47784}}
//
// The identifier and consumption live under different names depending on
// the protocol. Extractor looks them up through FieldPriority tables and
// returns everything else as attributes. Malformed lines are expected on
// a live pipe and are dropped without error.
package reading
