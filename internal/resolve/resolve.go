// Package resolve rewrites provider-private file references in run output
// into durable URLs. The provider's sandbox paths and citation markers only
// mean something inside its execution environment; readers of the final
// text need links that keep working.
package resolve

import (
	"context"
	"mime"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/kestrelhq/kestrel/internal/artifact"
	"github.com/kestrelhq/kestrel/internal/fault"
	"github.com/kestrelhq/kestrel/internal/log"
	"github.com/kestrelhq/kestrel/internal/metadata"
)

var (
	// locatorPattern matches bare sandbox locators. Markdown-wrapped
	// locators are matched too because the pattern stops at the closing
	// paren or bracket of the link.
	locatorPattern = regexp.MustCompile(`sandbox:/[^\s)\]"'【】]*`)

	// citationPattern matches provider citation annotations, e.g. 【8†source】.
	citationPattern = regexp.MustCompile(`【[^【】]*†[^【】]*】`)
)

// ArtifactDirectory is the metadata lookup surface the resolver consumes.
type ArtifactDirectory interface {
	FindArtifactByLocator(ctx context.Context, locator string) (*metadata.ArtifactRecord, error)
	FindArtifactByThreadAndFilename(ctx context.Context, threadID, filename string) (*metadata.ArtifactRecord, error)
}

// PlaceholderCreator registers artifacts for locators never seen before.
type PlaceholderCreator interface {
	CreatePlaceholder(ctx context.Context, filename, contentType, threadID, transientLocator, externalFileID string) (*artifact.Artifact, error)
}

// Resolver rewrites transient locators in text to durable URLs.
type Resolver struct {
	dir     ArtifactDirectory
	creator PlaceholderCreator
	logger  log.Logger
}

// New creates a Resolver. logger may be nil.
func New(dir ArtifactDirectory, creator PlaceholderCreator, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Resolver{dir: dir, creator: creator, logger: logger}
}

// Resolve replaces every transient locator in rawText with a durable URL
// and strips citation annotations that would otherwise dangle.
//
// Each distinct locator is handled once per pass: an existing artifact is
// found by locator, then by (thread, filename); only when both lookups miss
// is a placeholder registered. Repeated resolution of the same text for the
// same thread therefore creates no duplicate artifacts and yields the same
// output.
//
// Locators whose inferred filename is unusable are removed from the text
// rather than left pointing into the provider's sandbox.
func (r *Resolver) Resolve(ctx context.Context, rawText, threadID, messageID string) (string, error) {
	const op = "resolve.rewrite"

	if threadID == "" {
		return "", fault.Validationf(op, "thread id is required")
	}

	locators := dedupe(locatorPattern.FindAllString(rawText, -1))

	// Longer locators substitute first so a locator that is a prefix of
	// another is not rewritten inside it.
	sort.Slice(locators, func(i, j int) bool { return len(locators[i]) > len(locators[j]) })

	text := rawText
	for _, locator := range locators {
		filename := inferFilename(locator)
		if artifact.ValidateFilename(filename) != nil {
			r.logger.Warn("dropping locator with unusable filename",
				"thread_id", threadID,
				"message_id", messageID,
				"locator", locator)
			text = strings.ReplaceAll(text, locator, "")
			continue
		}

		url, err := r.durableURL(ctx, threadID, locator, filename)
		if err != nil {
			return "", err
		}
		text = strings.ReplaceAll(text, locator, url)
	}

	return citationPattern.ReplaceAllString(text, ""), nil
}

// durableURL finds or creates the artifact backing a locator and returns
// its durable URL.
func (r *Resolver) durableURL(ctx context.Context, threadID, locator, filename string) (string, error) {
	const op = "resolve.lookup"

	rec, err := r.dir.FindArtifactByLocator(ctx, locator)
	if err != nil {
		return "", fault.Restamp(op, "by_locator", err)
	}
	if rec != nil {
		return rec.BlobURL, nil
	}

	rec, err = r.dir.FindArtifactByThreadAndFilename(ctx, threadID, filename)
	if err != nil {
		return "", fault.Restamp(op, "by_thread_and_filename", err)
	}
	if rec != nil {
		return rec.BlobURL, nil
	}

	// First sighting. Register a placeholder so the reference is durable
	// now; the bytes follow later, keyed by the same artifact id.
	art, err := r.creator.CreatePlaceholder(ctx, filename, contentTypeFor(filename), threadID, locator, "")
	if err != nil {
		return "", err
	}
	r.logger.Debug("locator resolved to new placeholder",
		"thread_id", threadID,
		"locator", locator,
		"artifact_id", art.ID)
	return art.BlobURL, nil
}

// inferFilename extracts the filename from a sandbox locator.
func inferFilename(locator string) string {
	p := strings.TrimPrefix(locator, "sandbox://")
	p = strings.TrimPrefix(p, "sandbox:/")
	p = strings.TrimRight(p, "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
