package metrics

const (
	SyncOffsetN = "tsync_synchronizer_offset_microseconds"
	SyncOffsetH = "Last measured offset between device and master clock in microseconds"

	SyncIndexOffsetN = "tsync_synchronizer_index_offset"
	SyncIndexOffsetH = "Accumulated sample index shift applied by a frequency-counter synchronizer"

	SyncCorrectionOffsetN = "tsync_synchronizer_correction_offset_microseconds"
	SyncCorrectionOffsetH = "Smoothed correction offset applied by a secondary-clock synchronizer in microseconds"

	SyncCorrectionsN = "tsync_synchronizer_corrections_total"
	SyncCorrectionsH = "Total number of corrections applied to device timestamps"

	SyncOutOfToleranceN = "tsync_synchronizer_out_of_tolerance_total"
	SyncOutOfToleranceH = "Total number of offset checks that exceeded the tolerance"

	SyncOutliersN = "tsync_synchronizer_outliers_total"
	SyncOutliersH = "Total number of device timestamps classified as outliers"

	SyncRecordsWrittenN = "tsync_synchronizer_records_written_total"
	SyncRecordsWrittenH = "Total number of records appended to time-sync files"

	NotificationsDroppedN = "tsync_notifications_dropped_total"
	NotificationsDroppedH = "Total number of synchronizer notifications dropped because the queue was full"

	DevicesRunningN = "tsync_devices_running"
	DevicesRunningH = "Number of device acquisition tasks currently running"

	DeliveriesN = "tsync_device_deliveries_total"
	DeliveriesH = "Total number of data blocks delivered by device acquisition tasks"
)
