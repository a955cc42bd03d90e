package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Mindburn-Labs/quotacore/fingerprint"
	"github.com/Mindburn-Labs/quotacore/quotapb"
)

func TestReportOperation_StableAcrossLabelOrder(t *testing.T) {
	a := quotapb.Operation{
		ConsumerID:    "project:demo",
		OperationName: "read",
		Labels:        map[string]string{"a": "1", "b": "2"},
	}
	b := quotapb.Operation{
		ConsumerID:    "project:demo",
		OperationName: "read",
		Labels:        map[string]string{"b": "2", "a": "1"},
	}
	assert.Equal(t, fingerprint.ReportOperation(a), fingerprint.ReportOperation(b))
}

func TestReportOperation_DifferByConsumer(t *testing.T) {
	a := quotapb.Operation{ConsumerID: "project:demo", OperationName: "read"}
	b := quotapb.Operation{ConsumerID: "project:other", OperationName: "read"}
	assert.NotEqual(t, fingerprint.ReportOperation(a), fingerprint.ReportOperation(b))
}

func TestMetricValue_CurrencyDistinguishesMoney(t *testing.T) {
	usd := quotapb.MetricValue{Kind: quotapb.MoneyValue, MoneyVal: quotapb.Money{CurrencyCode: "USD", Units: 1}}
	eur := quotapb.MetricValue{Kind: quotapb.MoneyValue, MoneyVal: quotapb.Money{CurrencyCode: "EUR", Units: 1}}
	assert.NotEqual(t, fingerprint.MetricValue(usd), fingerprint.MetricValue(eur))
}

func TestMetricValue_NonMoneyIgnoresCurrency(t *testing.T) {
	a := quotapb.MetricValue{Kind: quotapb.Int64Value, Int64: 5, MoneyVal: quotapb.Money{CurrencyCode: "USD"}}
	b := quotapb.MetricValue{Kind: quotapb.Int64Value, Int64: 9, MoneyVal: quotapb.Money{CurrencyCode: "EUR"}}
	// The currency code only enters the fingerprint of money values; for
	// non-money values the fingerprint depends on labels alone, so these
	// collide despite differing values and currency codes.
	assert.Equal(t, fingerprint.MetricValue(a), fingerprint.MetricValue(b))
}

func TestCheckRequest_OrderOfMetricValueSetsMatters(t *testing.T) {
	base := quotapb.Operation{OperationName: "read", ConsumerID: "c"}
	opA := base
	opA.MetricValueSets = []quotapb.MetricValueSet{
		{MetricName: "x"}, {MetricName: "y"},
	}
	opB := base
	opB.MetricValueSets = []quotapb.MetricValueSet{
		{MetricName: "y"}, {MetricName: "x"},
	}
	reqA := quotapb.CheckRequest{ServiceName: "svc", Operation: opA}
	reqB := quotapb.CheckRequest{ServiceName: "svc", Operation: opB}
	assert.NotEqual(t, fingerprint.CheckRequest(reqA), fingerprint.CheckRequest(reqB))
}
