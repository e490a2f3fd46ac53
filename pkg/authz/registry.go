package authz

const (
	RoleViewer    = "viewer"
	RoleSteward   = "steward"
	RoleAdmin     = "admin"
	RoleAnonymous = "anonymous"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

const (
	ObjectConcepts   = "metadata.concepts"
	ObjectAliases    = "metadata.aliases"
	ObjectNaming     = "metadata.naming"
	ObjectGlossary   = "metadata.glossary"
	ObjectLineage    = "metadata.lineage"
	ObjectGovernance = "metadata.governance"
)
