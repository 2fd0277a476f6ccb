// Package service composes the sync components into one client.
//
// SyncService owns a single event loop. The connection manager,
// subscription protocol, poll scheduler and arbiter live on it, and every
// public method marshals onto it, so callers may use the service from any
// goroutine.
//
// Example usage:
//
//	cfg := service.DefaultConfig()
//	cfg.Dialer = transport.NewWebSocketDialer(transport.Config{URL: pushURL})
//	cfg.Fetcher = apiClient
//
//	svc, err := service.NewSyncService(cfg)
//	svc.Start(ctx)
//	defer svc.Stop()
//
//	v, err := svc.SubscribeToView(ctx, view.Descriptor{
//		Kind:    view.KindSummary,
//		Backend: 1,
//		Window:  view.Last(15 * time.Minute),
//	})
//	for st := range v.Updates() {
//		render(st.Value, st.Err)
//	}
//
// # Idle policy
//
// With DisableWhenIdle set, the push connection is only enabled while at
// least one view is mounted.
//
// # Persistence
//
// With a Store set, cached entries are restored at Start and saved every
// SaveInterval and at Stop.
package service
