package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be written.
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.  The returned error
// joins every failure, so errors.Is sees fs.ErrNotExist and friends.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		if len(name) == 0 {
			continue
		}

		// a bare file name lives in the working directory
		directory, _ := filepath.Split(name)
		if len(directory) == 0 {
			directory = "."
		}
		info, err := os.Stat(directory)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.IsDir() {
			errs = append(errs, &os.PathError{Op: "stat", Path: directory, Err: errors.New("not a directory")})
			continue
		}

		if !checkExistence {
			continue
		}
		f, err := os.Open(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		f.Close()
	}

	if rtnerr := errors.Join(errs...); rtnerr != nil {
		return false, rtnerr
	}
	return true, nil
}
