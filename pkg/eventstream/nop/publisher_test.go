package nop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/eventstream"
	"github.com/papercomputeco/attend/pkg/eventstream/nop"
)

var _ = Describe("Publisher", func() {
	It("creates a non-nil publisher", func() {
		p := nop.NewPublisher()
		Expect(p).NotTo(BeNil())
	})

	It("returns ErrNilRunEvent for nil run events", func() {
		p := nop.NewPublisher()
		err := p.PublishRun(context.Background(), nil)
		Expect(err).To(MatchError(eventstream.ErrNilRunEvent))
	})

	It("returns ErrNilArtifactEvent for nil artifact events", func() {
		p := nop.NewPublisher()
		err := p.PublishArtifact(context.Background(), nil)
		Expect(err).To(MatchError(eventstream.ErrNilArtifactEvent))
	})

	It("succeeds for non-nil events", func() {
		p := nop.NewPublisher()
		Expect(p.PublishRun(context.Background(), &eventstream.RunCompletedEvent{})).To(Succeed())
		Expect(p.PublishArtifact(context.Background(), &eventstream.ArtifactEmittedEvent{})).To(Succeed())
	})

	It("closes successfully", func() {
		p := nop.NewPublisher()
		Expect(p.Close()).To(Succeed())
	})
})
