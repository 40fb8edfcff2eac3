package bootpart

import (
	"errors"

	"github.com/fwforge-io/fwforge/internal/hal"
	"github.com/fwforge-io/fwforge/pkg/log"
)

// Result of selecting the boot partition.
type Result int

const (
	Success Result = iota
	PartitionNotFound
	SetFailed
	UnknownError
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case PartitionNotFound:
		return "partition not found"
	case SetFailed:
		return "set failed"
	default:
		return "unknown error"
	}
}

// Controller marks the primary application slot as the next-boot target.
type Controller struct {
	partitions hal.PartitionTable
}

// NewController creates a controller over the given partition table.
func NewController(partitions hal.PartitionTable) *Controller {
	return &Controller{partitions: partitions}
}

// SelectPrimaryApplicationSlot locates the partition holding the primary
// application slot and requests the boot partition change. Pure
// query-then-act; repeated calls are safe.
func (c *Controller) SelectPrimaryApplicationSlot() Result {
	part, err := c.partitions.Find(hal.TargetApplication)
	if err != nil {
		if errors.Is(err, hal.ErrPartitionNotFound) {
			log.Error(err, "Primary application partition not found")
			return PartitionNotFound
		}
		log.Error(err, "Partition lookup failed")
		return UnknownError
	}

	log.Info("Setting partition as boot partition", "label", part.Label)

	if err := c.partitions.SetBootPartition(part); err != nil {
		log.Error(err, "Failed to set boot partition", "label", part.Label)
		return SetFailed
	}

	return Success
}
