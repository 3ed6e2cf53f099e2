// Package forecast fits a structural time-series model to hourly sea-level
// series and produces forecasts, nowcasts and component decompositions.
//
// The model is a sum of unobserved components in state-space form:
//
//	y[t] = level[t] + Σ seasonal_k[t] + ε[t]
//	level[t+1] = level[t] + trend[t] + η[t]      (trend optional)
//	trend[t+1] = trend[t] + ζ[t]
//
// Each seasonal component is a bank of stochastic trigonometric cycles
// at a tidal period s with harmonics j = 1..H and frequency 2πj/s. The default
// bank covers the M2, S2, K1 and O1 constituents with two harmonics each.
//
// Disturbance variances are estimated by maximum likelihood through a Kalman
// filter with approximate diffuse initialisation. A Model is not safe for
// concurrent use; fitted models can be cloned with WithNoise.
package forecast
