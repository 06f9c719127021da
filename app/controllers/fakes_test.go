package controllers

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hauntedempire/paycore/app/models"
	"github.com/hauntedempire/paycore/internal/pkg/jobqueue"
	"github.com/hauntedempire/paycore/internal/pkg/provider"
	"github.com/hauntedempire/paycore/internal/pkg/quota"
)

type fakeJobs struct {
	mu       sync.Mutex
	payloads []jobqueue.Payload
	err      error
}

func (f *fakeJobs) Enqueue(ctx context.Context, payload jobqueue.Payload) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &models.Job{ID: uuid.NewString(), Type: string(payload.JobType()), Status: string(jobqueue.JobStatusPending)}, nil
}

func (f *fakeJobs) all() []jobqueue.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]jobqueue.Payload(nil), f.payloads...)
}

func (f *fakeJobs) notifyKinds() []string {
	var kinds []string
	for _, p := range f.all() {
		if n, ok := p.(jobqueue.NotifyPayload); ok {
			kinds = append(kinds, n.Kind)
		}
	}
	return kinds
}

type fakeQuota struct {
	denyOp     quota.Operation
	maxCharge  int64
	calls      []quota.Operation
	chargeSeen int64
}

func (f *fakeQuota) CheckAndIncrement(ctx context.Context, userID string, op quota.Operation) (quota.Decision, error) {
	f.calls = append(f.calls, op)
	if op == f.denyOp {
		return quota.Decision{Allowed: false, Operation: op, Reason: "free tier " + string(op) + " limit of 100"}, nil
	}
	return quota.Decision{Allowed: true, Operation: op}, nil
}

func (f *fakeQuota) CheckChargeAmount(ctx context.Context, userID string, amount int64) (quota.Decision, error) {
	f.chargeSeen = amount
	if f.maxCharge > 0 && amount > f.maxCharge {
		return quota.Decision{Allowed: false, Reason: "free tier charge limit of 100000 exceeded"}, nil
	}
	return quota.Decision{Allowed: true}, nil
}

type fakeCharger struct {
	chargeErrs []error
	refundErr  error
	charges    []provider.ChargeRequest
	refunds    []provider.RefundRequest
}

func (f *fakeCharger) CreateCharge(ctx context.Context, req provider.ChargeRequest) (*provider.Charge, error) {
	f.charges = append(f.charges, req)
	if n := len(f.charges); n <= len(f.chargeErrs) && f.chargeErrs[n-1] != nil {
		return nil, f.chargeErrs[n-1]
	}
	return &provider.Charge{ID: "pi_123", Status: "succeeded", Amount: req.Amount, Currency: req.Currency}, nil
}

func (f *fakeCharger) RefundCharge(ctx context.Context, req provider.RefundRequest) (*provider.Refund, error) {
	f.refunds = append(f.refunds, req)
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return &provider.Refund{ID: "re_123", PaymentID: req.PaymentID, Status: "succeeded", Amount: req.Amount}, nil
}
