package catalog

// Clean removes every source (and by cascade, its targets, structural
// dependencies, and context variables) whose path matches any of the
// given regular expressions. It is used when an application is reset or
// a directory is explicitly cleaned.
func (t *Tx) Clean(pathRegexes []string) error {
	for _, re := range pathRegexes {
		if _, err := t.tx.Exec(`DELETE FROM sources WHERE path REGEXP ?`, re); err != nil {
			return &storeErr{"clean", err}
		}
	}
	return nil
}
