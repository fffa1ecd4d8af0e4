// Package server exposes pond management over HTTP with gin.
//
//	POST   /api/ponds       {name, x, y}                  201, 400, 403, 409
//	PATCH  /api/ponds/:id   {x, y, includeInAggregate}    200, 400, 403, 404
//	DELETE /api/ponds/:id                                 204, 403, 404
//	GET    /api/ponds                                     200
//	POST   /api/sweep                                     200
//	GET    /api/history?pond=&limit=                      200
//	GET    /healthz
//	GET    /metrics
//
// Failures are returned as {"error": message}; unclassified failures are
// 500.
package server
