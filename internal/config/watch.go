package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch re-loads the config file whenever it changes on disk and hands the
// fresh copy to onChange. Invalid edits are logged and skipped; the running
// config stays untouched until the file validates again. Editors tend to
// emit several write events per save, so reloads are coalesced.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory, not the file: many editors replace the file on
	// save, which drops a file-level watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()

		var pending *time.Timer
		reload := func() {
			cfg, err := Load(path)
			if err != nil {
				log.Printf("CONFIG: reload skipped: %v", err)
				return
			}
			log.Printf("CONFIG: reloaded %s", path)
			onChange(cfg)
		}

		for {
			select {
			case <-ctx.Done():
				return

			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != filepath.Clean(path) {
					continue
				}
				if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, reload)

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("CONFIG: watch error: %v", err)
			}
		}
	}()

	return nil
}
