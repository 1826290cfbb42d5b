//go:build protogen

package workforce

import (
	"context"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/tarek-aziz/fieldops/libs/grpcx"
	workforcev1 "github.com/tarek-aziz/fieldops/protos/gen/workforce/v1"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/engine"
	"github.com/tarek-aziz/fieldops/services/availability-service/internal/interval"
)

// grpcProvider fetches per-worker open windows from the workforce service,
// overriding the company calendar for workers with individual schedules.
type grpcProvider struct {
	client workforcev1.WorkforceServiceClient
}

func NewProvider(addr string) (engine.HoursProvider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: workforcev1.NewWorkforceServiceClient(conn)}, nil
}

func (p *grpcProvider) DayWindows(ctx context.Context, companyID, workerID string, day time.Time) ([]interval.Interval, bool, error) {
	resp, err := p.client.GetDayWindows(ctx, &workforcev1.DayWindowsRequest{
		CompanyId: companyID,
		WorkerId:  workerID,
		Day:       timestamppb.New(day),
	})
	if err != nil {
		return nil, false, err
	}
	if !resp.GetHasOverride() {
		return nil, false, nil
	}
	windows := make([]interval.Interval, 0, len(resp.GetWindows()))
	for _, w := range resp.GetWindows() {
		if w.GetStart() == nil || w.GetEnd() == nil {
			continue
		}
		iv, err := interval.New(w.GetStart().AsTime(), w.GetEnd().AsTime())
		if err != nil {
			continue
		}
		windows = append(windows, iv)
	}
	return windows, true, nil
}
