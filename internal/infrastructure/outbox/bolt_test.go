package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/garyjia/expense-approval/internal/application/port"
)

var _ = Describe("BoltOutbox", func() {
	var (
		ctx    context.Context
		path   string
		box    *BoltOutbox
		t0     time.Time
		entryA port.OutboxEntry
	)

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "outbox.db")
		var err error
		box, err = Open(path)
		Expect(err).NotTo(HaveOccurred())

		t0 = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
		entryA = port.OutboxEntry{
			Key:           "evt-1:submitter",
			Kind:          "notification",
			Payload:       []byte(`{"recipient_id":"emp-1"}`),
			NextAttemptAt: t0,
			CreatedAt:     t0,
		}
	})

	AfterEach(func() {
		if box != nil {
			box.Close()
		}
	})

	Describe("Enqueue", func() {
		It("stores a new entry", func() {
			created, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())

			due, err := box.Due(ctx, t0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(HaveLen(1))
			Expect(due[0].Key).To(Equal("evt-1:submitter"))
			Expect(string(due[0].Payload)).To(Equal(`{"recipient_id":"emp-1"}`))
		})

		It("ignores a key that is already pending", func() {
			_, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())

			created, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			pending, _, err := box.Counts()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(Equal(1))
		})

		It("ignores a key that was already delivered", func() {
			_, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())
			Expect(box.Ack(ctx, entryA.Key)).To(Succeed())

			created, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			due, err := box.Due(ctx, t0.Add(time.Hour), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(BeEmpty())
		})

		It("rejects an entry without a key", func() {
			_, err := box.Enqueue(ctx, port.OutboxEntry{Kind: "notification"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Due", func() {
		BeforeEach(func() {
			later := entryA
			later.Key = "evt-2:approver"
			later.NextAttemptAt = t0.Add(10 * time.Minute)

			earlier := entryA
			earlier.Key = "evt-0:approver"
			earlier.NextAttemptAt = t0.Add(-10 * time.Minute)

			for _, e := range []port.OutboxEntry{entryA, later, earlier} {
				_, err := box.Enqueue(ctx, e)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("returns only entries whose attempt time has come, oldest first", func() {
			due, err := box.Due(ctx, t0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(HaveLen(2))
			Expect(due[0].Key).To(Equal("evt-0:approver"))
			Expect(due[1].Key).To(Equal("evt-1:submitter"))
		})

		It("honours the limit", func() {
			due, err := box.Due(ctx, t0.Add(time.Hour), 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(HaveLen(1))
			Expect(due[0].Key).To(Equal("evt-0:approver"))
		})
	})

	Describe("Retry", func() {
		It("reschedules the entry and counts the attempt", func() {
			_, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())

			next := t0.Add(time.Minute)
			Expect(box.Retry(ctx, entryA.Key, next, "lark unavailable")).To(Succeed())

			due, err := box.Due(ctx, t0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(BeEmpty())

			due, err = box.Due(ctx, next, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(HaveLen(1))
			Expect(due[0].Attempts).To(Equal(1))
			Expect(due[0].LastError).To(Equal("lark unavailable"))
		})

		It("fails for an unknown key", func() {
			err := box.Retry(ctx, "missing", t0, "boom")
			Expect(errors.Is(err, ErrEntryNotFound)).To(BeTrue())
		})
	})

	Describe("DeadLetter", func() {
		It("moves the entry to the dead bucket", func() {
			_, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())
			Expect(box.DeadLetter(ctx, entryA.Key, "gave up")).To(Succeed())

			due, err := box.Due(ctx, t0.Add(time.Hour), 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(BeEmpty())

			dead, err := box.DeadLetters(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(dead).To(HaveLen(1))
			Expect(dead[0].LastError).To(Equal("gave up"))

			created, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
		})
	})

	Describe("persistence", func() {
		It("keeps pending entries across reopen", func() {
			_, err := box.Enqueue(ctx, entryA)
			Expect(err).NotTo(HaveOccurred())
			Expect(box.Close()).To(Succeed())

			box, err = Open(path)
			Expect(err).NotTo(HaveOccurred())
			due, err := box.Due(ctx, t0, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(due).To(HaveLen(1))
		})
	})
})

var _ = Describe("Backoff", func() {
	It("doubles from the base and stops at the cap", func() {
		b := Backoff{Base: time.Second, Max: 10 * time.Second}
		Expect(b.Delay(0)).To(Equal(time.Second))
		Expect(b.Delay(1)).To(Equal(time.Second))
		Expect(b.Delay(2)).To(Equal(2 * time.Second))
		Expect(b.Delay(4)).To(Equal(8 * time.Second))
		Expect(b.Delay(5)).To(Equal(10 * time.Second))
		Expect(b.Delay(50)).To(Equal(10 * time.Second))
	})
})
