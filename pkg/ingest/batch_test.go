package ingest

import (
	"testing"
	"time"
)

func TestBatchSubmitAndAwait(t *testing.T) {
	b := NewBatch(testStageContext(), 2)
	defer b.Stop()

	id, err := b.Submit(Request{Source: SourceContent, Content: []byte("hi"), ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var result JobResult
	var found bool
	for time.Now().Before(deadline) {
		result, found = b.Status(id)
		if found && (result.Status == JobDone || result.Status == JobFailed) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !found {
		t.Fatal("Status: job not found")
	}
	if result.Status != JobDone {
		t.Fatalf("Status = %v, want done (err=%v)", result.Status, result.Err)
	}
}

func TestBatchToleratesPerItemFailure(t *testing.T) {
	b := NewBatch(testStageContext(), 2)
	defer b.Stop()

	goodID, err := b.Submit(Request{Source: SourceContent, Content: []byte("hi"), ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("Submit good: %v", err)
	}
	badID, err := b.Submit(Request{Source: SourcePath, Path: "/nonexistent/nope"})
	if err != nil {
		t.Fatalf("Submit bad: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		good, gok := b.Status(goodID)
		bad, bok := b.Status(badID)
		if gok && bok && good.Status != JobQueued && bad.Status != JobQueued {
			if good.Status != JobDone {
				t.Fatalf("good job status = %v, want done", good.Status)
			}
			if bad.Status != JobFailed {
				t.Fatalf("bad job status = %v, want failed", bad.Status)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("jobs did not reach terminal state in time")
}

func TestBatchStopRejectsNewSubmissions(t *testing.T) {
	b := NewBatch(testStageContext(), 1)
	b.Stop()

	if _, err := b.Submit(Request{Source: SourceContent, Content: []byte("x"), ContentType: "text/plain"}); err == nil {
		t.Fatal("Submit after Stop: want error")
	}
}
