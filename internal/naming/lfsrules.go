package naming

import (
	"path/filepath"
	"strings"

	"github.com/kohakuhub/hub/internal/config"
	"github.com/kohakuhub/hub/internal/metadata"
)

// EffectiveLFSRules merges server-wide defaults with a repo's overrides.
// A nil field on the repo falls back to the server default.
type EffectiveLFSRules struct {
	ThresholdBytes int64
	SuffixPatterns []string
	KeepVersions   int
	AutoGC         bool
}

// KeepVersionsEnabled reports whether retention GC should run at all for
// this repo's rules.
func (r EffectiveLFSRules) KeepVersionsEnabled() bool {
	return r.AutoGC && r.KeepVersions > 0
}

func ResolveLFSRules(cfg config.LFS, repo *metadata.Repository) EffectiveLFSRules {
	rules := EffectiveLFSRules{
		ThresholdBytes: cfg.ThresholdBytes,
		SuffixPatterns: cfg.SuffixPatterns,
		KeepVersions:   cfg.KeepVersions,
		AutoGC:         cfg.AutoGC,
	}
	if repo == nil {
		return rules
	}
	if repo.LFSRules.ThresholdBytes != nil {
		rules.ThresholdBytes = *repo.LFSRules.ThresholdBytes
	}
	if len(repo.LFSRules.SuffixPatterns) > 0 {
		rules.SuffixPatterns = repo.LFSRules.SuffixPatterns
	}
	if repo.LFSRules.KeepVersions != nil {
		rules.KeepVersions = *repo.LFSRules.KeepVersions
	}
	return rules
}

// IsLFSPath reports whether an inline "file" op for this path/size would
// actually qualify as LFS content under the repo's effective rules —
// used by the commit engine to reject inline uploads of large files.
func (r EffectiveLFSRules) IsLFSPath(path string, size int64) bool {
	if r.ThresholdBytes > 0 && size > r.ThresholdBytes {
		return true
	}
	base := filepath.Base(path)
	for _, pattern := range r.SuffixPatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if strings.HasSuffix(base, strings.TrimPrefix(pattern, "*")) && strings.HasPrefix(pattern, "*") {
			return true
		}
	}
	return false
}
