package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
)

// FakeSequence is an in-process stand-in for the redis-backed code generator.
type FakeSequence struct {
	n atomic.Int64
}

func (f *FakeSequence) NextCampaignCode(context.Context) (string, error) {
	return fmt.Sprintf("CMP-TEST-%03d", f.n.Add(1)), nil
}

func (f *FakeSequence) NextReceiptCode(context.Context) (string, error) {
	return fmt.Sprintf("RCT-TEST-%03d", f.n.Add(1)), nil
}
