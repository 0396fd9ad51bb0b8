package metrics

import "time"

// DeployStep records the final state a deployment step reached.
func DeployStep(network, contract, state string, duration time.Duration) {
	if !enabled {
		return
	}
	deployStepTotal.WithLabelValues(network, contract, state).Inc()
	deployStepDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// DeployRun records a finished deployment run.
func DeployRun(network, status string) {
	if !enabled {
		return
	}
	deployRunTotal.WithLabelValues(network, status).Inc()
}

// VerificationRequest records a verification outcome.
func VerificationRequest(network, result string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(network, result).Inc()
}
