// Package watcher reports edits to manifest files.
//
// The Watcher subscribes to the directories that contain the manifests
// rather than the files themselves, because editors commonly save by writing
// a temporary file and renaming it over the original. Events for other files
// in those directories are ignored. Bursts of events are coalesced: the
// callback fires once the manifests have been quiet for the debounce period.
//
// Example usage:
//
//	w, err := watcher.New([]string{"/Users/me/Brewfile"}, watcher.WithDebounce(time.Second))
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = w.Run(ctx, func(ctx context.Context, changed []string) error {
//		fmt.Println("changed:", changed)
//		return nil
//	})
package watcher
