package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/autolinehq/autoline-be/internal/media"
)

func newMediaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Manage vehicle media records",
	}
	cmd.AddCommand(
		newMediaListCmd(a),
		newMediaAddCmd(a),
		newMediaSetPrimaryCmd(a),
		newMediaReorderCmd(a),
		newMediaDeactivateCmd(a),
		newMediaDeleteCmd(a),
	)
	return cmd
}

func (a *app) mediaStore() (*media.Store, error) {
	dbClient, err := a.getDB()
	if err != nil {
		return nil, err
	}
	return media.NewStore(dbClient.GetDB(), a.logger.Logger), nil
}

func newMediaListCmd(a *app) *cobra.Command {
	var (
		carID           int64
		customerID      string
		includeInactive bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a car's media grouped by type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.mediaStore()
			if err != nil {
				return err
			}
			carMedia, err := store.ListForCar(cmd.Context(), carID, customerID, includeInactive)
			if err != nil {
				return err
			}

			fmt.Printf("Car %d: %d media items\n", carMedia.CarID, carMedia.TotalCount)
			if carMedia.PrimaryImage != nil {
				fmt.Printf("Primary image: %s\n", carMedia.PrimaryImage.ID)
			}
			printMediaGroup("Images", carMedia.Images)
			printMediaGroup("Videos", carMedia.Videos)
			printMediaGroup("Documents", carMedia.Documents)
			return nil
		},
	}
	cmd.Flags().Int64Var(&carID, "car", 0, "Car ID (required)")
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID (required)")
	cmd.Flags().BoolVar(&includeInactive, "include-inactive", false, "Include deactivated media")
	cmd.MarkFlagRequired("car")
	cmd.MarkFlagRequired("customer")
	return cmd
}

func printMediaGroup(name string, items []media.Media) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", name)
	for _, m := range items {
		marker := " "
		if m.IsPrimary {
			marker = "*"
		}
		fmt.Printf("  %s %s\torder=%d\t%s\n", marker, m.ID, m.DisplayOrder, m.URL)
	}
}

func newMediaAddCmd(a *app) *cobra.Command {
	var params media.CreateParams

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a media record for a car",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.mediaStore()
			if err != nil {
				return err
			}
			m, err := store.Create(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Printf("Created media %s\n", m.ID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&params.CarID, "car", 0, "Car ID (required)")
	cmd.Flags().StringVar(&params.CustomerID, "customer", "", "Customer ID (required)")
	cmd.Flags().StringVar(&params.MediaType, "type", media.TypeImage, "Media type")
	cmd.Flags().StringVar(&params.URL, "url", "", "Media URL (required)")
	cmd.Flags().StringVar(&params.StorageProvider, "provider", "external", "Storage provider")
	cmd.Flags().StringVar(&params.FileName, "file-name", "", "Original file name")
	cmd.Flags().StringVar(&params.MimeType, "mime-type", "", "MIME type")
	cmd.Flags().StringVar(&params.AltText, "alt", "", "Alt text")
	cmd.Flags().IntVar(&params.DisplayOrder, "order", 0, "Display order")
	cmd.Flags().BoolVar(&params.IsPrimary, "primary", false, "Mark as the primary image")
	cmd.MarkFlagRequired("car")
	cmd.MarkFlagRequired("customer")
	cmd.MarkFlagRequired("url")
	return cmd
}

func newMediaSetPrimaryCmd(a *app) *cobra.Command {
	var (
		carID      int64
		customerID string
	)

	cmd := &cobra.Command{
		Use:   "set-primary <media-id>",
		Short: "Make one media item the car's primary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.mediaStore()
			if err != nil {
				return err
			}
			if err := store.SetPrimary(cmd.Context(), args[0], carID, customerID); err != nil {
				return err
			}
			fmt.Printf("Set %s as primary\n", args[0])
			return nil
		},
	}
	cmd.Flags().Int64Var(&carID, "car", 0, "Car ID (required)")
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID (required)")
	cmd.MarkFlagRequired("car")
	cmd.MarkFlagRequired("customer")
	return cmd
}

func newMediaReorderCmd(a *app) *cobra.Command {
	var (
		carID      int64
		customerID string
	)

	cmd := &cobra.Command{
		Use:   "reorder <media-id>=<order> [<media-id>=<order>...]",
		Short: "Apply new display orders for a car's media",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orders := make(map[string]int, len(args))
			for _, arg := range args {
				mediaID, orderStr, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("invalid argument %q, expected <media-id>=<order>", arg)
				}
				order, err := strconv.Atoi(orderStr)
				if err != nil {
					return fmt.Errorf("invalid order in %q: %w", arg, err)
				}
				orders[mediaID] = order
			}

			store, err := a.mediaStore()
			if err != nil {
				return err
			}
			if err := store.Reorder(cmd.Context(), carID, customerID, orders); err != nil {
				return err
			}
			fmt.Printf("Reordered %d media items\n", len(orders))
			return nil
		},
	}
	cmd.Flags().Int64Var(&carID, "car", 0, "Car ID (required)")
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID (required)")
	cmd.MarkFlagRequired("car")
	cmd.MarkFlagRequired("customer")
	return cmd
}

func newMediaDeactivateCmd(a *app) *cobra.Command {
	var customerID string

	cmd := &cobra.Command{
		Use:   "deactivate <media-id>",
		Short: "Soft-delete a media record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.mediaStore()
			if err != nil {
				return err
			}
			if err := store.Deactivate(cmd.Context(), args[0], customerID); err != nil {
				return err
			}
			fmt.Printf("Deactivated %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID (required)")
	cmd.MarkFlagRequired("customer")
	return cmd
}

func newMediaDeleteCmd(a *app) *cobra.Command {
	var (
		customerID string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "delete <media-id>",
		Short: "Hard-delete a media record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete without --yes")
			}
			store, err := a.mediaStore()
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0], customerID); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID (required)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion")
	cmd.MarkFlagRequired("customer")
	return cmd
}
