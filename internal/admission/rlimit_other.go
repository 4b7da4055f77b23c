//go:build !unix

package admission

import "go.uber.org/zap"

// raiseFDLimit has no rlimit concept on non-Unix platforms; report a
// conservative fixed value so the cap formula still behaves
// deterministically (see SPEC_FULL.md §5.2).
func raiseFDLimit(logger *zap.SugaredLogger) int {
	logger.Infow("file-descriptor limits are not queryable on this platform, using conservative default")
	return highFDThreshold
}
