package gate

// Reason codes surfaced in decisions and audit rows.
const (
	ReasonPassed                = "passed"
	ReasonIPExtractionFailed    = "ip_extraction_failed"
	ReasonIPDenylist            = "ip_denylist"
	ReasonIPNotInAllowlist      = "ip_not_in_allowlist"
	ReasonCountryBlocked        = "country_blocked"
	ReasonCountryNotAllowed     = "country_not_allowed"
	ReasonVPNProxyDetected      = "vpn_proxy_detected"
	ReasonGPSRequired           = "gps_required"
	ReasonGPSInvalid            = "gps_invalid"
	ReasonGPSIPMismatch         = "gps_ip_mismatch"
	ReasonOutsideGeofence       = "outside_geofence"
	ReasonInvalidGeofenceConfig = "invalid_geofence_config"
)

var reasonMessages = map[string]string{
	ReasonPassed:                "access granted",
	ReasonIPExtractionFailed:    "client IP address could not be determined",
	ReasonIPDenylist:            "IP address is on the denylist",
	ReasonIPNotInAllowlist:      "IP address is not on the allowlist",
	ReasonCountryBlocked:        "country is blocked for this site",
	ReasonCountryNotAllowed:     "country is not allowed for this site",
	ReasonVPNProxyDetected:      "VPN, proxy, hosting or Tor exit detected",
	ReasonGPSRequired:           "GPS coordinates are required for this site",
	ReasonGPSInvalid:            "GPS coordinates failed validation",
	ReasonGPSIPMismatch:         "GPS position is too far from the IP location",
	ReasonOutsideGeofence:       "position is outside the site geofence",
	ReasonInvalidGeofenceConfig: "site geofence is misconfigured",
}

// ReasonMessage returns the human-readable message for a reason code.
func ReasonMessage(reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return reason
}
