package cli

import (
	"context"
	"fmt"
)

// VersionCmd is the 'mauved version' command.
type VersionCmd struct{}

func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println("mauved " + Version)
	return nil
}
