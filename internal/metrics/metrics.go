// Package metrics содержит Prometheus-метрики сервиса комиссионных выплат.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmeshcher/redio/internal/model"
)

// LedgerMetrics объединяет счётчики операций, выплат и доставки уведомлений.
type LedgerMetrics struct {
	operations      *prometheus.CounterVec
	salesProcessed  prometheus.Counter
	saleVolume      prometheus.Counter
	commissionsPaid prometheus.Counter
	escrowMoved     *prometheus.CounterVec
	eventsDelivered *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger возвращает зарегистрированный в реестре по умолчанию набор метрик.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redio_operations_total",
				Help: "Count of ledger operations by name and result code.",
			}, []string{"operation", "result"}),
			salesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "redio_sales_processed_total",
				Help: "Count of sales settled with a commission payout.",
			}),
			saleVolume: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "redio_sale_volume_total",
				Help: "Sum of settled sale amounts in base units.",
			}),
			commissionsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "redio_commissions_paid_total",
				Help: "Sum of commissions paid out of escrow in base units.",
			}),
			escrowMoved: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redio_escrow_moved_total",
				Help: "Sum of merchant escrow deposits and withdrawals in base units.",
			}, []string{"direction"}),
			eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redio_events_delivered_total",
				Help: "Count of notification deliveries by publisher and result.",
			}, []string{"publisher", "result"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.salesProcessed,
			ledgerRegistry.saleVolume,
			ledgerRegistry.commissionsPaid,
			ledgerRegistry.escrowMoved,
			ledgerRegistry.eventsDelivered,
		)
	})
	return ledgerRegistry
}

// ResultLabel возвращает метку результата операции.
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := model.CodeOf(err); code != "" {
		return code
	}
	return "internal"
}

// ObserveOperation учитывает завершение операции.
func (m *LedgerMetrics) ObserveOperation(operation string, err error) {
	m.operations.WithLabelValues(operation, ResultLabel(err)).Inc()
}

// ObserveSale учитывает проведённую продажу.
func (m *LedgerMetrics) ObserveSale(saleAmount, commission uint64) {
	m.salesProcessed.Inc()
	m.saleVolume.Add(float64(saleAmount))
	m.commissionsPaid.Add(float64(commission))
}

// ObserveEscrow учитывает движение средств мерчанта, direction принимает "deposit" или "withdraw".
func (m *LedgerMetrics) ObserveEscrow(direction string, amount uint64) {
	m.escrowMoved.WithLabelValues(direction).Add(float64(amount))
}

// ObserveDelivery учитывает попытку доставки пакета уведомлений.
func (m *LedgerMetrics) ObserveDelivery(publisher string, events int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsDelivered.WithLabelValues(publisher, result).Add(float64(events))
}
