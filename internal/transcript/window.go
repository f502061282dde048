package transcript

import "time"

// Window is a closed attribution interval [Start, End]. A nil End
// leaves the window open-ended.
type Window struct {
	Key   string
	Start time.Time
	End   *time.Time
}

// Contains reports whether t falls inside the window. Both bounds are
// inclusive.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End == nil || !t.After(*w.End)
}

// Collect routes every request in the given transcript files to the
// first window that contains its timestamp. Each file is read once
// regardless of window count, and a requestId that appears in several
// overlapping files is counted only once, from the file seen first.
func Collect(files []string, windows []Window) (map[string][]*Request, error) {
	out := make(map[string][]*Request, len(windows))
	seen := make(map[string]bool)
	for _, path := range files {
		reqs, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, req := range reqs {
			if seen[req.ID] {
				continue
			}
			seen[req.ID] = true
			for _, w := range windows {
				if w.Contains(req.Timestamp) {
					out[w.Key] = append(out[w.Key], req)
					break
				}
			}
		}
	}
	return out, nil
}

// CollectWindow gathers requests for a single window across files.
func CollectWindow(files []string, w Window) ([]*Request, error) {
	byKey, err := Collect(files, []Window{w})
	if err != nil {
		return nil, err
	}
	return byKey[w.Key], nil
}
