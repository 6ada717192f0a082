//go:build tools

package tools

// mockery v2 (v2.53.5) is used as an installed binary (not via go run), so
// no import is needed. Run: mockery (from the repository root) to regenerate
// pkg/lss/mocks from .mockery.yaml, which uses the v2 keys (with-expecter,
// outpkg, mockname).
