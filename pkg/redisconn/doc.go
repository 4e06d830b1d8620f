// Package redisconn opens and supervises the Redis client shared by the
// cache and queue backends.
//
// Open parses a redis:// or rediss:// URL, applies pool and timeout
// defaults, and pings the server with exponential backoff before handing
// the client out. Healthcheck and Shutdown return closures suitable for
// health endpoints and shutdown hooks.
//
//	client, err := redisconn.Open(ctx, os.Getenv("REDIS_URL"),
//	    redisconn.WithRetry(3, time.Second),
//	    redisconn.WithLogger(logger),
//	)
//	if err != nil {
//	    // fall back to in-process backends
//	}
//	defer redisconn.Shutdown(client)(ctx)
package redisconn
