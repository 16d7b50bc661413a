package engine

// OSVersion is the android build version of a Device.
type OSVersion struct {
	Incremental string `json:"incremental"`
	Release     string `json:"release"`
	Codename    string `json:"codename"`
	SDK         uint32 `json:"sdk"`
}

// Device is the device identity presented to the server. It must stay
// stable for an account across runs.
type Device struct {
	Display      string    `json:"display"`
	Product      string    `json:"product"`
	Device       string    `json:"device"`
	Board        string    `json:"board"`
	Model        string    `json:"model"`
	FingerPrint  string    `json:"finger_print"`
	BootID       string    `json:"boot_id"`
	ProcVersion  string    `json:"proc_version"`
	IMEI         string    `json:"imei"`
	Brand        string    `json:"brand"`
	Bootloader   string    `json:"bootloader"`
	BaseBand     string    `json:"base_band"`
	Version      OSVersion `json:"version"`
	SimInfo      string    `json:"sim_info"`
	OSType       string    `json:"os_type"`
	MacAddress   string    `json:"mac_address"`
	IPAddress    []uint8   `json:"ip_address"`
	WifiBSSID    string    `json:"wifi_bssid"`
	WifiSSID     string    `json:"wifi_ssid"`
	IMSIMD5      []byte    `json:"imsi_md5"`
	AndroidID    string    `json:"android_id"`
	APN          string    `json:"apn"`
	VendorName   string    `json:"vendor_name"`
	VendorOSName string    `json:"vendor_os_name"`
}
