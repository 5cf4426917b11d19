package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dothq/systray"
	"github.com/dothq/systray/internal/app"
)

// Valid orientations of the scroll command.
const (
	orientationVertical   = "vertical"
	orientationHorizontal = "horizontal"
)

func newActivateCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <index> [x y]",
		Short: short,
		Long:  short + ".\n\nIndex is the position of the item in the list command output, starting at 0.",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			x, y, err := parseCoordinates(args[1:])
			if err != nil {
				return err
			}

			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				return a.Invoke(ctx, index, func(item *systray.Item) error {
					return activate(item, use, x, y)
				})
			})
		},
	}
}

func newScrollCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scroll <index> <delta> [orientation]",
		Short: "Send a scroll event to an item",
		Long:  "Send a scroll event to an item.\n\nOrientation is vertical (default) or horizontal.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}

			delta, err := parseInt32(args[1], "delta")
			if err != nil {
				return err
			}

			orientation := orientationVertical
			if len(args) == 3 {
				orientation, err = parseOrientation(args[2])
				if err != nil {
					return err
				}
			}

			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				return a.Invoke(ctx, index, func(item *systray.Item) error {
					return item.Scroll(delta, orientation)
				})
			})
		},
	}
}

func activate(item *systray.Item, action string, x, y int32) error {
	switch action {
	case "activate":
		return item.Activate(x, y)
	case "secondary-activate":
		return item.SecondaryActivate(x, y)
	case "context-menu":
		return item.ContextMenu(x, y)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func parseIndex(arg string) (int, error) {
	index, err := strconv.Atoi(arg)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid index %q: must be a non-negative integer", arg)
	}

	return index, nil
}

// parseCoordinates parses optional x and y. Both or neither must be given.
func parseCoordinates(args []string) (x, y int32, err error) {
	switch len(args) {
	case 0:
		return 0, 0, nil
	case 2:
	default:
		return 0, 0, fmt.Errorf("expected both x and y coordinates")
	}

	if x, err = parseInt32(args[0], "x"); err != nil {
		return 0, 0, err
	}

	if y, err = parseInt32(args[1], "y"); err != nil {
		return 0, 0, err
	}

	return x, y, nil
}

func parseInt32(arg, name string) (int32, error) {
	value, err := strconv.ParseInt(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a 32-bit integer", name, arg)
	}

	return int32(value), nil
}

func parseOrientation(arg string) (string, error) {
	switch arg {
	case orientationVertical, orientationHorizontal:
		return arg, nil
	default:
		return "", fmt.Errorf("invalid orientation %q: must be %s or %s", arg, orientationVertical, orientationHorizontal)
	}
}
