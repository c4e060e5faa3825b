package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"dev.helix.ensemble/internal/models"
)

// Fingerprint derives the cache key from a request's material fields. Two
// requests that would produce the same pipeline run hash identically:
// provider order and option order do not matter, correlation id and caller
// identity never participate.
func Fingerprint(req *models.PipelineRequest) string {
	h := sha256.New()

	fmt.Fprintf(h, "prompt:%s\n", req.Prompt)
	fmt.Fprintf(h, "pattern:%s\n", req.Pattern)
	fmt.Fprintf(h, "lead:%s\n", req.LeadProvider)

	providers := make([]string, len(req.SelectedProviders))
	copy(providers, req.SelectedProviders)
	sort.Strings(providers)
	fmt.Fprintf(h, "providers:%s\n", strings.Join(providers, ","))

	if len(req.StageOptions) > 0 {
		keys := make([]string, 0, len(req.StageOptions))
		for k := range req.StageOptions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "option:%s=%s\n", k, req.StageOptions[k])
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}
