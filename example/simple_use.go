package main

import (
	"context"
	"fmt"
	"time"

	"github.com/leandrodaf/fwaudio/internal/logger"
	"github.com/leandrodaf/fwaudio/sdk/contracts"
	"github.com/leandrodaf/fwaudio/sdk/driver"
)

func main() {
	log := logger.NewZapLogger()

	d, err := driver.NewDriver(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
		contracts.WithBackend("dummy"),
		contracts.WithSampleRate(48000),
		contracts.WithPeriodSize(256),
	)
	if err != nil {
		log.Error("Failed to open driver", log.Field().Error("error", err))
		return
	}
	defer d.Close()

	if err = d.Attach(); err != nil {
		log.Error("Failed to attach device", log.Field().Error("error", err))
		return
	}
	defer d.Detach()

	if err = d.Start(); err != nil {
		log.Error("Failed to start driver", log.Field().Error("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	fmt.Println("Running the driver cycle for two seconds...")
	err = d.Run(ctx, func(frames int) error {
		t := d.Timing()
		log.Debug("cycle", log.Field().Int("frames", frames), log.Field().Uint64("wake", t.LastValidWake))
		return nil
	})
	if err != nil && err != context.DeadlineExceeded {
		log.Error("Cycle failed", log.Field().Error("error", err))
	}

	if err = d.Stop(); err != nil {
		log.Error("Failed to stop driver", log.Field().Error("error", err))
	}
	fmt.Println("Cycles processed:", d.Processed())
}
