package openapi

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// Generate builds the OpenAPI 3.1 document for the Warden management API.
// The document is assembled programmatically so it always matches the
// routes the server actually registers.
func Generate(baseURL, version string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Warden API",
			Description: "Zero-trust access resolution and topology management API.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Paths = openapi3.NewPaths()

	registerSchemas(doc)
	addResolvePaths(doc)
	addRulePaths(doc)
	addTopologyPaths(doc)
	addAgentPaths(doc)
	addSystemPaths(doc)

	return doc
}

// registerSchemas adds the shared component schemas.
func registerSchemas(doc *openapi3.T) {
	doc.Components.Schemas["ErrorResponse"] = objectSchema(openapi3.Schemas{
		"error": objectSchema(openapi3.Schemas{
			"code":    typedSchema("integer", "int32"),
			"message": typedSchema("string", ""),
			"context": objectSchema(nil),
		}),
	})

	doc.Components.Schemas["AccessRule"] = objectSchema(openapi3.Schemas{
		"id":            typedSchema("string", "uuid"),
		"name":          typedSchema("string", ""),
		"type":          enumSchema("ip", "cidr", "hostname", "hostname_wildcard"),
		"value":         typedSchema("string", ""),
		"port_range":    typedSchema("string", ""),
		"protocol":      enumSchema("tcp", "udp"),
		"network_scope": typedSchema("string", ""),
		"is_active":     typedSchema("boolean", ""),
		"description":   typedSchema("string", ""),
		"version":       typedSchema("integer", "int64"),
		"created_at":    typedSchema("string", "date-time"),
		"updated_at":    typedSchema("string", "date-time"),
	})

	doc.Components.Schemas["RuleAssignment"] = objectSchema(openapi3.Schemas{
		"id":           typedSchema("string", "uuid"),
		"rule_id":      typedSchema("string", "uuid"),
		"subject_type": enumSchema("user", "group"),
		"subject":      typedSchema("string", ""),
		"created_at":   typedSchema("string", "date-time"),
	})

	doc.Components.Schemas["Network"] = objectSchema(openapi3.Schemas{
		"id":        typedSchema("string", "uuid"),
		"name":      typedSchema("string", ""),
		"cidr":      typedSchema("string", ""),
		"is_active": typedSchema("boolean", ""),
	})

	doc.Components.Schemas["Route"] = objectSchema(openapi3.Schemas{
		"prefix": typedSchema("string", ""),
		"origin": enumSchema("assigned_network", "hub_local", "spoke"),
		"source": typedSchema("string", ""),
		"rule":   typedSchema("string", ""),
	})

	doc.Components.Schemas["CheckResult"] = objectSchema(openapi3.Schemas{
		"allowed": typedSchema("boolean", ""),
	})
}

func addResolvePaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/resolve/rules", &openapi3.PathItem{
		Get: operation("resolveEffectiveRules", "Resolution",
			"List the caller's effective access rules",
			listResponse("AccessRule")),
	})

	checkOp := operation("resolveCheck", "Resolution",
		"Check whether the caller may reach a target",
		jsonResponse("200", "Access decision", schemaRef("CheckResult")))
	checkOp.RequestBody = jsonRequestBody(objectSchema(openapi3.Schemas{
		"host":     typedSchema("string", ""),
		"port":     typedSchema("integer", "int32"),
		"protocol": enumSchema("tcp", "udp"),
	}))
	doc.Paths.Set("/api/v1/resolve/check", &openapi3.PathItem{Post: checkOp})

	routesOp := operation("resolveRoutes", "Resolution",
		"Compute the caller's authorized routes through a hub",
		listResponse("Route"))
	routesOp.Parameters = openapi3.Parameters{pathParam("hubId")}
	doc.Paths.Set("/api/v1/resolve/routes/{hubId}", &openapi3.PathItem{Get: routesOp})
}

func addRulePaths(doc *openapi3.T) {
	createOp := operation("createRule", "Rules", "Create an access rule",
		jsonResponse("201", "Created rule", schemaRef("AccessRule")))
	createOp.RequestBody = jsonRequestBody(schemaRef("AccessRule"))

	doc.Paths.Set("/api/v1/rules", &openapi3.PathItem{
		Get:  operation("listRules", "Rules", "List all access rules", listResponse("AccessRule")),
		Post: createOp,
	})

	updateOp := operation("updateRule", "Rules",
		"Update an access rule (requires the current version)",
		jsonResponse("200", "Updated rule", schemaRef("AccessRule")))
	updateOp.RequestBody = jsonRequestBody(schemaRef("AccessRule"))
	updateOp.Parameters = openapi3.Parameters{pathParam("ruleId")}

	getOp := operation("getRule", "Rules", "Get an access rule",
		jsonResponse("200", "The rule", schemaRef("AccessRule")))
	getOp.Parameters = openapi3.Parameters{pathParam("ruleId")}

	deleteOp := operation("deleteRule", "Rules",
		"Delete an access rule and its assignments", successResponse())
	deleteOp.Parameters = openapi3.Parameters{pathParam("ruleId")}

	doc.Paths.Set("/api/v1/rules/{ruleId}", &openapi3.PathItem{
		Get:    getOp,
		Put:    updateOp,
		Delete: deleteOp,
	})

	assignOp := operation("createAssignment", "Rules",
		"Grant a rule to a user or group",
		jsonResponse("201", "Created assignment", schemaRef("RuleAssignment")))
	assignOp.RequestBody = jsonRequestBody(objectSchema(openapi3.Schemas{
		"subject_type": enumSchema("user", "group"),
		"subject":      typedSchema("string", ""),
	}))
	assignOp.Parameters = openapi3.Parameters{pathParam("ruleId")}

	listAssignOp := operation("listAssignments", "Rules",
		"List a rule's assignments", listResponse("RuleAssignment"))
	listAssignOp.Parameters = openapi3.Parameters{pathParam("ruleId")}

	doc.Paths.Set("/api/v1/rules/{ruleId}/assignments", &openapi3.PathItem{
		Get:  listAssignOp,
		Post: assignOp,
	})
}

func addTopologyPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/networks", &openapi3.PathItem{
		Get: operation("listNetworks", "Topology", "List networks", listResponse("Network")),
		Post: operation("createNetwork", "Topology", "Create a network",
			jsonResponse("201", "Created network", schemaRef("Network"))),
	})

	doc.Paths.Set("/api/v1/hubs", &openapi3.PathItem{
		Get: operation("listHubs", "Topology", "List hubs", jsonList()),
		Post: operation("createHub", "Topology",
			"Create a hub; the enrollment token is returned exactly once",
			jsonResponse("201", "Hub with one-time enrollment token", objectSchema(nil))),
	})

	topoOp := operation("hubTopology", "Topology",
		"Administrative topology view of a hub", jsonResponse("200", "Topology view", objectSchema(nil)))
	topoOp.Parameters = openapi3.Parameters{pathParam("hubId")}
	doc.Paths.Set("/api/v1/hubs/{hubId}/topology", &openapi3.PathItem{Get: topoOp})
}

func addAgentPaths(doc *openapi3.T) {
	hb := operation("hubHeartbeat", "Agents",
		"Hub agent heartbeat, authenticated with X-Agent-Token", successResponse())
	hb.Security = &openapi3.SecurityRequirements{} // token header, not API auth
	doc.Paths.Set("/api/v1/agent/hub/heartbeat", &openapi3.PathItem{Post: hb})

	sb := operation("spokeHeartbeat", "Agents",
		"Spoke agent heartbeat, authenticated with X-Agent-Token", successResponse())
	sb.Security = &openapi3.SecurityRequirements{}
	doc.Paths.Set("/api/v1/agent/spoke/heartbeat", &openapi3.PathItem{Post: sb})
}

func addSystemPaths(doc *openapi3.T) {
	loginOp := operation("adminLogin", "System", "Exchange admin credentials for a session token",
		jsonResponse("200", "Session token", objectSchema(openapi3.Schemas{
			"session_token": typedSchema("string", ""),
			"token_type":    typedSchema("string", ""),
			"expires_in":    typedSchema("integer", "int64"),
		})))
	loginOp.RequestBody = jsonRequestBody(objectSchema(openapi3.Schemas{
		"email":    typedSchema("string", "email"),
		"password": typedSchema("string", "password"),
	}))
	loginOp.Security = &openapi3.SecurityRequirements{}
	doc.Paths.Set("/api/v1/system/admin/session", &openapi3.PathItem{Post: loginOp})

	doc.Paths.Set("/api/v1/system/status", &openapi3.PathItem{
		Get: operation("systemStatus", "System", "Row counts across the store",
			jsonResponse("200", "Counts", objectSchema(nil))),
	})
}

// --------------------------------------------------------------------------
// Builders
// --------------------------------------------------------------------------

// respSpec pairs a status code with its response definition.
type respSpec struct {
	status string
	resp   *openapi3.Response
}

func operation(id, tag, summary string, r respSpec) *openapi3.Operation {
	op := openapi3.NewOperation()
	op.OperationID = id
	op.Tags = []string{tag}
	op.Summary = summary
	op.Responses = openapi3.NewResponses()
	op.Responses.Set(r.status, &openapi3.ResponseRef{Value: r.resp})
	op.Responses.Set("default", &openapi3.ResponseRef{
		Value: openapi3.NewResponse().
			WithDescription("Error").
			WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/ErrorResponse"}),
	})
	return op
}

func jsonResponse(status, desc string, schema *openapi3.SchemaRef) respSpec {
	return respSpec{status, openapi3.NewResponse().WithDescription(desc).WithJSONSchemaRef(schema)}
}

func listResponse(component string) respSpec {
	wrapper := objectSchema(openapi3.Schemas{
		"resource": {Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: &openapi3.SchemaRef{Ref: fmt.Sprintf("#/components/schemas/%s", component)},
		}},
		"count": typedSchema("integer", "int32"),
	})
	return respSpec{"200", openapi3.NewResponse().WithDescription("Result list").WithJSONSchemaRef(wrapper)}
}

func jsonList() respSpec {
	return respSpec{"200", openapi3.NewResponse().WithDescription("Result list").WithJSONSchema(openapi3.NewObjectSchema())}
}

func successResponse() respSpec {
	return respSpec{"200", openapi3.NewResponse().WithDescription("Success").WithJSONSchema(openapi3.NewObjectSchema())}
}

func jsonRequestBody(schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(schema),
	}
}

func pathParam(name string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter(name).WithSchema(openapi3.NewStringSchema()),
	}
}

func schemaRef(component string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Ref: fmt.Sprintf("#/components/schemas/%s", component)}
}

func objectSchema(props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
	}}
}

func typedSchema(typ, format string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:   &openapi3.Types{typ},
		Format: format,
	}}
}

func enumSchema(values ...string) *openapi3.SchemaRef {
	enum := make([]interface{}, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type: &openapi3.Types{"string"},
		Enum: enum,
	}}
}
