package rtsp

import (
	"bufio"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// UserDatabase is an optional Server attachment mapping username to
// credential for Digest authentication. A Server with no UserDatabase skips
// authentication entirely (spec.md §4.3).
type UserDatabase struct {
	realm string
	path  string

	// creds is loaded atomically: readers (Authenticator.Verify, by way of
	// Lookup) never take a lock, and a reload swaps the whole map in one
	// store so no reader ever observes a partially built map.
	creds atomic.Value // map[string]Credential

	watcher *fsnotify.Watcher
}

// Realm returns the realm credentials in this database are bound to.
func (d *UserDatabase) Realm() string { return d.realm }

// NewUserDatabaseFromFile parses an htdigest-style file: lines of the form
// "username:realm:HA1", '#'-prefixed and blank lines ignored. HA1 is already
// MD5(username:realm:password), so every loaded credential is IsMD5.
func NewUserDatabaseFromFile(path, realm string) (*UserDatabase, error) {
	db := &UserDatabase{realm: realm, path: path}
	creds, err := parseHtdigestFile(path, realm)
	if err != nil {
		return nil, err
	}
	db.creds.Store(creds)
	return db, nil
}

// Lookup implements the lookup func Authenticator.Verify needs.
func (d *UserDatabase) Lookup(username string) (Credential, bool) {
	creds := d.creds.Load().(map[string]Credential)
	c, ok := creds[username]
	return c, ok
}

// Watch starts an fsnotify watch on the backing file and reloads the
// credential map on every Write/Create event. Malformed lines are skipped
// without being logged, rather than treated as fatal, so one bad line in an
// operator's edit never drops the whole file. Watch must be called at most
// once; Close stops it.
func (d *UserDatabase) Watch(log *logrus.Entry) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create credential file watcher")
	}
	if err := w.Add(d.path); err != nil {
		w.Close()
		return errors.Wrapf(err, "watch credential file %s", d.path)
	}
	d.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				creds, err := parseHtdigestFile(d.path, d.realm)
				if err != nil {
					log.WithError(err).Warn("credential file reload failed, keeping previous credentials")
					continue
				}
				d.creds.Store(creds)
				log.WithField("path", d.path).Info("credential file reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("credential file watcher error")
			}
		}
	}()
	return nil
}

// Close stops the hot-reload watch, if one was started.
func (d *UserDatabase) Close() {
	if d.watcher != nil {
		d.watcher.Close()
	}
}

func parseHtdigestFile(path, realm string) (map[string]Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open credential file %s", path)
	}
	defer f.Close()

	creds := make(map[string]Credential)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		username, lineRealm, ha1 := parts[0], parts[1], parts[2]
		if lineRealm != realm {
			continue
		}
		creds[username] = Credential{Value: ha1, IsMD5: true}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read credential file %s", path)
	}
	return creds, nil
}
