// Package shellalias maintains the bash alias file that turns every
// registered alias into a one-word command.
package shellalias

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var aliasLine = regexp.MustCompile(`^alias\s(\w+)=`)

const header = "#!/bin/bash\n\n"

// Files checks and extends the user's alias files. Own is written by stm;
// Others are only read to avoid shadowing the user's aliases.
type Files struct {
	Own    string
	Others []string
}

// Exists reports whether alias is defined in any of the files. Missing
// files count as empty.
func (f Files) Exists(alias string) (bool, error) {
	for _, path := range append([]string{f.Own}, f.Others...) {
		if path == "" {
			continue
		}
		ok, err := defines(path, alias)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func defines(path, alias string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if m := aliasLine.FindStringSubmatch(sc.Text()); m != nil && m[1] == alias {
			return true, nil
		}
	}
	return false, sc.Err()
}

// Line renders the alias definition. $KONSOLE_DBUS_SERVICE is expanded each
// time the alias runs, so tabs open in the Konsole window of the calling
// shell; outside Konsole it is empty and stm uses the configured launcher.
// Words typed after the alias land as stm's positional count.
func Line(alias string) string {
	return fmt.Sprintf(`alias %s='stm ssh --service="${KONSOLE_DBUS_SERVICE:-}" --alias %s'`, alias, alias) + "\n"
}

// Append adds alias to the own file, writing the shebang header when the
// file is new.
func (f Files) Append(alias string) error {
	if strings.TrimSpace(f.Own) == "" {
		return errors.New("no alias file configured")
	}
	st, err := os.Stat(f.Own)
	fresh := errors.Is(err, os.ErrNotExist) || (err == nil && st.Size() == 0)
	if err != nil && !fresh {
		return err
	}
	file, err := os.OpenFile(f.Own, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	var b strings.Builder
	if fresh {
		b.WriteString(header)
	}
	b.WriteString(Line(alias))
	if _, err := file.WriteString(b.String()); err != nil {
		return err
	}
	return file.Sync()
}
