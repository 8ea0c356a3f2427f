// Package mocks provides gomock implementations of the IIIF auth ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockSessionStore(ctrl)
//	store.EXPECT().Get(gomock.Any(), url).Return(sess, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=session_store_mock.go github.com/code4history/IIIF-MCP/internal/ports SessionStore
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=http_doer_mock.go github.com/code4history/IIIF-MCP/internal/ports HTTPDoer
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=browser_opener_mock.go github.com/code4history/IIIF-MCP/internal/ports BrowserOpener
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=token_poller_mock.go github.com/code4history/IIIF-MCP/internal/ports TokenPoller
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=port_finder_mock.go github.com/code4history/IIIF-MCP/internal/ports PortFinder
