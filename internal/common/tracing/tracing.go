package tracing

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/aws/aws-xray-sdk-go/xray"
)

var enabled atomic.Bool

// Enable はX-Rayのサブセグメント作成を有効にします
// 無効の間は Begin が何もしない Span を返します
func Enable(on bool) {
	enabled.Store(on)
}

func Enabled() bool {
	return enabled.Load()
}

// Span はX-Rayのサブセグメントの薄いラッパーです。nil でも安全に呼び出せます
type Span struct {
	seg *xray.Segment
}

// Begin は親セグメントがある場合にサブセグメントを開始します
func Begin(ctx context.Context, name string) (context.Context, *Span) {
	if !Enabled() || xray.GetSegment(ctx) == nil {
		return ctx, &Span{}
	}
	ctx, seg := xray.BeginSubsegment(ctx, name)
	return ctx, &Span{seg: seg}
}

// AddMetadata はメタデータを追加します。失敗してもログに残すだけです
func (s *Span) AddMetadata(key string, value interface{}) {
	if s == nil || s.seg == nil {
		return
	}
	if err := s.seg.AddMetadata(key, value); err != nil {
		log.Printf("Failed to add %s metadata: %v", key, err)
	}
}

// End はサブセグメントを閉じます
func (s *Span) End(err error) {
	if s == nil || s.seg == nil {
		return
	}
	s.seg.Close(err)
}
