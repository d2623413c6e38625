package storage_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/attend/pkg/storage"
)

var _ = Describe("NotFoundError", func() {
	It("names the kind and id", func() {
		err := storage.NotFoundError{Kind: "run", ID: "abc"}
		Expect(err.Error()).To(Equal("run not found: abc"))
	})

	It("defaults the kind", func() {
		Expect(storage.NotFoundError{}.Error()).To(Equal("record not found"))
	})

	It("is matchable through wrapping", func() {
		wrapped := fmt.Errorf("loading: %w", storage.NotFoundError{Kind: "entity", ID: "global:person:alice"})
		var target storage.NotFoundError
		Expect(errors.As(wrapped, &target)).To(BeTrue())
		Expect(target.Kind).To(Equal("entity"))
	})
})
