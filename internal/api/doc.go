// Package api provides the certflow REST API: manual certificate orders,
// workflow status and on-demand renewal runs.
//
//	@title						certflow API
//	@version					1.0
//	@description				ACME certificate issuance for hosted sites
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						X-API-Key
package api
