package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskQueue_SubmitAndWait(t *testing.T) {
	q := NewTaskQueue(4, testLogger())
	q.Start(context.Background())
	defer q.Stop()

	want := &BatchReport{TotalFiles: 3, Processed: 3}
	ticket, err := q.Submit(func(context.Context) (*BatchReport, error) {
		return want, nil
	})
	if err != nil {
		t.Fatalf("ошибка постановки задачи: %v", err)
	}
	if ticket.ID == "" {
		t.Error("ожидался идентификатор задачи")
	}

	got, err := ticket.Wait(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got != want {
		t.Errorf("ожидался отчёт %+v, получен %+v", want, got)
	}
}

func TestTaskQueue_JobError(t *testing.T) {
	q := NewTaskQueue(1, testLogger())
	q.Start(context.Background())
	defer q.Stop()

	boom := errors.New("boom")
	ticket, err := q.Submit(func(context.Context) (*BatchReport, error) { return nil, boom })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ticket.Wait(context.Background(), time.Second); !errors.Is(err, boom) {
		t.Errorf("ожидалась boom, получено %v", err)
	}
}

func TestTaskQueue_SequentialOrder(t *testing.T) {
	q := NewTaskQueue(8, testLogger())
	q.Start(context.Background())
	defer q.Stop()

	order := make(chan int, 3)
	var tickets []*Ticket
	for i := range 3 {
		ticket, err := q.Submit(func(context.Context) (*BatchReport, error) {
			order <- i
			return &BatchReport{}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		tickets = append(tickets, ticket)
	}
	for _, ticket := range tickets {
		if _, err := ticket.Wait(context.Background(), time.Second); err != nil {
			t.Fatal(err)
		}
	}
	close(order)
	want := 0
	for got := range order {
		if got != want {
			t.Errorf("нарушен порядок: ожидалась задача %d, получена %d", want, got)
		}
		want++
	}
}

func TestTicket_WaitTimeout(t *testing.T) {
	q := NewTaskQueue(1, testLogger())
	q.Start(context.Background())
	defer q.Stop()

	release := make(chan struct{})
	ticket, err := q.Submit(func(context.Context) (*BatchReport, error) {
		<-release
		return &BatchReport{TotalFiles: 1}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ticket.Wait(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("ожидалась ErrWaitTimeout, получено %v", err)
	}

	// Задача продолжает выполняться после таймаута ожидания
	close(release)
	report, err := ticket.Wait(context.Background(), time.Second)
	if err != nil || report.TotalFiles != 1 {
		t.Errorf("ожидался отчёт после завершения: %+v, %v", report, err)
	}
}

func TestTaskQueue_Full(t *testing.T) {
	// Worker не запущен: буфер не освобождается
	q := NewTaskQueue(1, testLogger())
	noop := func(context.Context) (*BatchReport, error) { return &BatchReport{}, nil }

	if _, err := q.Submit(noop); err != nil {
		t.Fatalf("первая задача: %v", err)
	}
	if _, err := q.Submit(noop); !errors.Is(err, ErrQueueFull) {
		t.Errorf("ожидалась ErrQueueFull, получено %v", err)
	}
}

func TestTaskQueue_Stop(t *testing.T) {
	q := NewTaskQueue(4, testLogger())
	q.Start(context.Background())

	started := make(chan struct{})
	running, err := q.Submit(func(ctx context.Context) (*BatchReport, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}
	<-started

	pending, err := q.Submit(func(context.Context) (*BatchReport, error) { return &BatchReport{}, nil })
	if err != nil {
		t.Fatal(err)
	}

	q.Stop()

	if _, err := running.Wait(context.Background(), time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("текущая задача: ожидалась context.Canceled, получено %v", err)
	}
	if _, err := pending.Wait(context.Background(), time.Second); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("ожидающая задача: ожидалась ErrQueueStopped, получено %v", err)
	}
	if _, err := q.Submit(func(context.Context) (*BatchReport, error) { return nil, nil }); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("после остановки: ожидалась ErrQueueStopped, получено %v", err)
	}

	// Повторный Stop безопасен
	q.Stop()
}
