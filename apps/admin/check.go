package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/storage/mirror"
)

// check audits the class memberships stored in the mirror.
func (cli *commandLine) check(ctx context.Context) error {
	snap, found, err := mirror.ReadSnapshot(ctx, cli.store)
	if err != nil {
		return errors.Wrap(err, "reading mirror")
	}
	if !found {
		fmt.Fprintln(cli.out, "mirror is empty")
		return nil
	}
	issues := academy.Audit(snap.Classes, snap.Students, snap.Teachers)
	cli.printInconsistencies(issues)
	if len(issues) > 0 {
		return errInconsistent
	}
	fmt.Fprintln(cli.out, "no inconsistency found")
	return nil
}

func (cli *commandLine) repair() error {
	fixed, err := cli.academy.Repair()
	if err != nil {
		return errors.Wrap(err, "repairing memberships")
	}
	cli.printInconsistencies(fixed)
	fmt.Fprintf(cli.out, "%d inconsistencies fixed\n", len(fixed))
	return nil
}

func (cli *commandLine) printInconsistencies(found []academy.Inconsistency) {
	for _, inc := range found {
		fmt.Fprintf(cli.out, "%-20s user=%-6d class=%-6d %s\n", inc.Kind, inc.UserID, inc.ClassID, inc.Detail)
	}
}
