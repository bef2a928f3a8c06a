package profile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTargetNotFound is returned when an UPDATE or DELETE target is not a
	// literal substring of the section content.
	ErrTargetNotFound = errors.New("target text not found in section")

	// ErrInvalidAction is returned for actions missing required fields.
	ErrInvalidAction = errors.New("invalid profile action")
)

// Apply returns content with the action applied. The original content is
// returned unchanged together with an error when the action cannot be applied
// verbatim. An ADD whose text is already present is a no-op.
func Apply(content string, a Action) (string, error) {
	if err := a.Validate(); err != nil {
		return content, err
	}

	switch a.Type {
	case ActionNone:
		return content, nil

	case ActionAdd:
		text := strings.TrimSpace(a.NewText)
		if strings.Contains(content, text) {
			return content, nil
		}
		base := strings.TrimRight(content, " \t\r\n")
		if base == "" {
			return text, nil
		}
		return base + "\n" + text, nil

	case ActionUpdate:
		return replaceTarget(content, a.TargetText, strings.TrimSpace(a.NewText))

	case ActionDelete:
		updated, err := replaceTarget(content, a.TargetText, "")
		if err != nil {
			return content, err
		}
		return dropEmptyLines(updated), nil
	}
	return content, nil
}

// HasTarget reports whether an UPDATE or DELETE of target can be applied to
// content.
func HasTarget(content, target string) bool {
	_, ok := locate(content, target)
	return ok
}

// replaceTarget swaps target for text. A target equal to a whole line of
// content replaces that line even when an earlier line contains it as a
// substring ("smoker" inside "ex-smoker").
func replaceTarget(content, target, text string) (string, error) {
	if want := strings.TrimSpace(target); want != "" {
		lines := strings.Split(content, "\n")
		for i, l := range lines {
			if strings.TrimSpace(l) == want {
				lines[i] = text
				return strings.Join(lines, "\n"), nil
			}
		}
	}
	found, ok := locate(content, target)
	if !ok {
		return content, fmt.Errorf("%w: %q", ErrTargetNotFound, target)
	}
	return strings.Replace(content, found, text, 1), nil
}

// locate returns the literal form of target present in content. A target
// padded with whitespace matches its trimmed form.
func locate(content, target string) (string, bool) {
	if strings.Contains(content, target) {
		return target, true
	}
	trimmed := strings.TrimSpace(target)
	if trimmed != "" && strings.Contains(content, trimmed) {
		return trimmed, true
	}
	return "", false
}

func dropEmptyLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimRight(l, " \t\r"))
		}
	}
	return strings.Join(kept, "\n")
}
