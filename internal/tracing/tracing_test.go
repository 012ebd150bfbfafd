package tracing

import (
	"context"
	"io"
	"testing"
)

func TestInitAndShutdown(t *testing.T) {
	shutdown, err := Init(io.Discard, "teamcollection-test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := StartBuildPass(context.Background(), "primary")
	if ctx == nil || span == nil {
		t.Fatal("expected StartBuildPass to return a non-nil context and span")
	}
	span.End()

	_, recruitSpan := StartRecruitment(ctx, "1.2.3.4:4500")
	if recruitSpan == nil {
		t.Fatal("expected StartRecruitment to return a non-nil span")
	}
	recruitSpan.End()
}
