/*
Package api exposes the compactor's status over HTTP and gRPC.

# HTTP

StatusServer routes requests with gorilla/mux:

	GET /health         process health (metrics.HealthChecker)
	GET /ready          readiness of the catalog and scheduler
	GET /metrics        Prometheus metrics
	GET /status         progress of every running node worker
	GET /status/{node}  progress of one node, 404 when it has no worker
	POST /queue         force compaction of regions, when the source is an Enqueuer

Unknown paths and methods get JSON error bodies.

# gRPC

HealthService registers the standard grpc.health.v1 service. The empty
service name reports the process. Each node with a running worker reports
SERVING under "compactor.node/<host:port>"; once its workers stop the
node reports NOT_SERVING. Follow keeps these in sync with the worker
lifecycle events of an events.Broker.

	grpc_health_probe -addr=:9091 -service=compactor.node/rs1:16020

Every unary call passes RecoveryInterceptor and LoggingInterceptor.
*/
package api
