// Package middleware provides the request guards used by the gate: sliding
// window rate limiting and static bearer secret checks.
//
// # Rate Limiting
//
// Two Limiter implementations share one sliding window estimate (the
// previous fixed window's count weighted by how much of it still overlaps
// the sliding window, plus the current count):
//
//	webhooks := middleware.NewRedisSlidingWindow(redisClient, middleware.WebhookRateLimitConfig(), "gatehouse:rl")
//	local := middleware.NewRateLimiter(middleware.UnsubscribeRateLimitConfig())
//
// ClassLimiter maps route classes to limiters and fails open:
//
//	limiter := middleware.NewClassLimiter(map[string]middleware.Limiter{
//		middleware.ClassWebhook: webhooks,
//	}, logger, metrics)
//	decision, applied := limiter.Check(ctx, middleware.ClassWebhook, middleware.CallerID(r))
//
// # Bearer Secrets
//
//	router.Use(middleware.RequireBearerSecret(cfg.Cron.Secret))
package middleware
