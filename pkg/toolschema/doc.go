// Package toolschema turns remote tool descriptors into callable tools whose
// parameters mirror the advertised JSON schema.
//
// A CompiledTool binds a keyed argument map against its parameter list,
// drops Absent optional values, validates the rest with gojsonschema and
// forwards the call to an Invoker. Failures are rendered as
// "Tool execution failed: <reason>" so they can be handed straight to a model.
package toolschema
