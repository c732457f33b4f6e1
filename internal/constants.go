package internal

import "time"

var FiveSeconds = 5 * time.Second
var TenSeconds = 10 * time.Second
var ThirtySeconds = 30 * time.Second

// RequeueSlotTime and RequeueMaxDelay bound the pause before a delivery is handed back to the broker
var RequeueSlotTime = 100 * time.Millisecond
var RequeueMaxDelay = TenSeconds
