package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nanobridge/internal/chipset"
)

func detectCmd() *cli.Command {
	var load bool

	return &cli.Command{
		Name:  "detect",
		Usage: "Scan the PCI bus for known chipsets",
		Flags: append(chipsetFlags(),
			&cli.BoolFlag{
				Name:        "load",
				Usage:       "attempt to load the driver for each detected chipset",
				Destination: &load,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			reg := chipset.NewRegistry(driversDir)
			drivers, err := reg.Detect()
			if err != nil {
				return err
			}
			if len(drivers) == 0 {
				fmt.Println("no known chipsets found")
				return nil
			}

			fmt.Printf("detected %d chipset(s):\n\n", len(drivers))
			for i, d := range drivers {
				fmt.Printf("%d. %s\n", i+1, d.Name)
				fmt.Printf("   vendor: %s\n", d.Vendor)
				fmt.Printf("   vid:did: 0x%04x:0x%04x\n", d.VendorID, d.DeviceID)
				fmt.Printf("   type: %s\n", d.Type)
				fmt.Printf("   driver: %s\n", d.DriverPath)

				if load {
					if err := reg.Load(d.VendorID, d.DeviceID); err != nil {
						fmt.Printf("   load failed: %v\n", err)
					} else {
						fmt.Println("   driver loaded")
					}
				}
				fmt.Println()
			}
			return nil
		},
	}
}
